// Package chunking splits attributed dialogue into synthesis-sized chunks.
//
// The synthesis backend accepts a bounded number of distinct voices per
// request, so dialogue is partitioned greedily in order: a chunk grows
// until the next line would introduce one voice too many. Speaker numbers
// are chunk-local and assigned by first appearance, which keeps the
// rendered script stable regardless of global speaker labels.
package chunking
