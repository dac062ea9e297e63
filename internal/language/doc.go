// Package language normalizes user-supplied language identifiers onto the
// set of languages the synthesis and translation backends support.
package language
