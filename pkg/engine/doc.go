// Package engine implements the fragment-reuse detection core: it turns two
// independent line streams into a ranked, deduplicated list of matching
// fragments with back-mapped source context.
//
// The package is deliberately self-contained. It has no knowledge of PDF,
// DOCX, HTTP, or storage — callers hand it a LineStream per document and get
// back a CompareResult.
package engine
