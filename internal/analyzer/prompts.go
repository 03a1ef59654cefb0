package analyzer

import (
	"fmt"

	"github.com/teemow/mailledger/internal/thread"
)

func conversationHeader(conv *thread.Conversation) string {
	return fmt.Sprintf(
		"From: %s\nTo: %s\nSubject: %s\nDate: %s\nBody:\n%s\n\n",
		conv.From, conv.To, conv.Subject, conv.LatestAt.Format("2006-01-02 15:04:05"), conv.Body)
}

// ClassificationPrompt builds the prompt asking whether a conversation
// contains a financial transaction.
func ClassificationPrompt(conv *thread.Conversation) string {
	return "TASK: Determine if the following email contains a financial transaction.\n\n" +
		conversationHeader(conv) +
		"CLASSIFICATION GUIDELINES:\n" +
		"1. FINANCIAL TRANSACTION INDICATORS:\n" +
		"   - Monetary amounts (e.g., $10.99, €50, 100 USD)\n" +
		"   - Payment confirmation language (e.g., 'Your payment was successful')\n" +
		"   - Receipt or invoice terminology\n" +
		"   - Order confirmations with prices\n" +
		"   - Subscription charges or renewals\n" +
		"   - Bill payment confirmations\n" +
		"   - Banking transaction notifications\n\n" +
		"2. NON-TRANSACTION INDICATORS:\n" +
		"   - Marketing or promotional emails (even if they mention prices)\n" +
		"   - General correspondence without financial activity\n" +
		"   - Account notifications without monetary transactions\n" +
		"   - Shipping notifications without payment details\n" +
		"   - Password resets or security alerts\n" +
		"   - Newsletters or informational updates\n\n" +
		"3. CONFIDENCE ASSESSMENT:\n" +
		"   - High confidence (0.8-1.0): Clear transaction details present\n" +
		"   - Medium confidence (0.5-0.79): Some transaction indicators but ambiguous\n" +
		"   - Low confidence (0.0-0.49): Few or no transaction indicators\n\n" +
		"OUTPUT REQUIREMENTS:\n" +
		"- is_transactional: true/false based on presence of financial transaction\n" +
		"- confidence: Score between 0.0-1.0 indicating classification confidence\n" +
		"- reasoning: Brief explanation (1-3 sentences) justifying your classification\n"
}

// ExtractionPrompt builds the prompt asking for the structured transaction
// fields of a conversation already classified as transactional.
func ExtractionPrompt(conv *thread.Conversation) string {
	return "TASK: Extract detailed financial transaction information from the following email.\n\n" +
		conversationHeader(conv) +
		"EXTRACTION GUIDELINES:\n" +
		"1. TRANSACTION DATE:\n" +
		"   - Format as ISO 8601 (YYYY-MM-DD)\n" +
		"   - Extract the actual transaction date, not email date\n" +
		"   - If multiple dates present, select the one associated with the transaction\n" +
		"   - If no specific date found, use the email date as fallback\n\n" +
		"2. AMOUNT:\n" +
		"   - Extract as float value only (e.g., 29.99, not $29.99)\n" +
		"   - For multiple amounts, identify the primary transaction amount\n" +
		"   - Convert foreign currencies if exchange rate is provided\n" +
		"   - For refunds or credits, use positive value and indicate in description\n\n" +
		"3. DESCRIPTION:\n" +
		"   - Create concise but informative summary (max 100 characters)\n" +
		"   - Include merchant/sender name and transaction type\n" +
		"   - Format as: [Transaction Type] - [Merchant] - [Item/Service]\n" +
		"   - Examples: 'Payment - Netflix - Monthly Subscription', 'Purchase - Amazon - Headphones'\n\n" +
		"4. ADDITIONAL FIELDS:\n" +
		"   - sender: Extract the sender's email address\n" +
		"   - subject: Use the email subject line\n" +
		"   - category: Short spending category (e.g., 'Subscription', 'Groceries', 'Transport')\n\n" +
		"OUTPUT REQUIREMENTS:\n" +
		"- Provide all fields with accurate information\n" +
		"- Ensure values match the specified formats and constraints\n" +
		"- If a required field cannot be determined with certainty, make a reasonable inference\n"
}
