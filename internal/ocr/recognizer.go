package ocr

// Recognizer defines the interface for receipt text recognition. The
// recognized text is raw and unstructured; field extraction happens
// downstream.
type Recognizer interface {
	// Recognize returns the raw text read from a receipt image or PDF
	Recognize(imageData []byte, contentType string) (string, error)
	// Close closes the recognizer and releases resources
	Close() error
}
