package scanning

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a photo of a purchase receipt. Carefully read all text in the image and extract the following information:

1. **Merchant**: the store or business name, usually the largest text at the top of the receipt. Examples: "Walmart", "Trader Joe's", "Shell".

2. **Date**: the transaction date, converted to ISO 8601 format (YYYY-MM-DD). Common printed formats: MM/DD/YYYY, DD/MM/YYYY, or written dates.

3. **Total Amount**: the final total, grand total or amount due, usually labeled "TOTAL", "Amount Due" or "Balance". Extract only the numeric value (e.g., 42.75 for $42.75).

4. **Items**: every purchased line with its name, quantity and unit price. When no quantity is printed, use 1.

Return ONLY valid JSON in this exact format:
{
  "merchant": "Store Name",
  "date": "YYYY-MM-DD",
  "totalAmount": 0.00,
  "items": [
    {"name": "Item name", "quantity": 1, "price": 0.00}
  ]
}

Important:
- The date must be in YYYY-MM-DD format, or null if no date is printed
- totalAmount, quantity and price must be numbers (not strings)
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// systemPrompt is sent ahead of the scan prompt by every backend
const systemPrompt = "You are an expert at reading and extracting information from receipts. You must carefully read all text in images and extract accurate information."
