package util

import (
	"crypto/rand"
	"encoding/hex"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

func NewDocumentID() string { return NewID("doc") }
func NewVersionID() string  { return NewID("ver") }
func NewBranchID() string   { return NewID("br") }
