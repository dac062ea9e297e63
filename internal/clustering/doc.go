// Package clustering groups transcript segments into speakers by their
// voice embeddings.
//
// Density-based clustering over cosine distance keeps the speaker count
// data-driven: no target count is supplied up front. Outlier embeddings
// become singleton speakers, and segments too short to embed inherit the
// label of the nearest clustered neighbor so every dialogue line stays
// attributed.
package clustering
