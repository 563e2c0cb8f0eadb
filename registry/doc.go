// Package registry discovers packaged crates in a directory and indexes
// them on first use.
//
// Discovery only lists the directory: each archive gets a placeholder in
// the tree and stays Undiscovered until something needs its contents.
// Ensure then indexes it exactly once, however many callers ask at the same
// time, and grafts the result into the tree. An archive that fails to index
// is Broken and disappears from the tree until the next Scan.
package registry
