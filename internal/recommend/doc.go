// Package recommend builds recommendation collections.
//
// A Provider reads the target viewer's watch history from the media server,
// asks the LLM for titles the viewer has not seen, and resolves each title
// against the catalog. Titles the catalog has no match for are returned
// without a catalog id so the evaluator reports them as unidentified; a
// failed catalog lookup fails the whole recommendation.
package recommend
