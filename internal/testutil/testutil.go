// Package testutil holds helpers shared by package tests: minimal GGUF model
// files and short-lived contexts.
package testutil

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatmate/internal/gguf"
)

// ModelMeta describes the metadata written into a fake GGUF file.
type ModelMeta struct {
	Name       string
	Arch       string
	ContextLen uint32
	Tokenizer  string
	Tokens     []string
}

// DefaultMeta is a small qwen2-like header.
var DefaultMeta = ModelMeta{
	Name:       "tiny-test",
	Arch:       "qwen2",
	ContextLen: 4096,
	Tokenizer:  "gpt2",
	Tokens:     []string{"<s>", "</s>", "a", "b"},
}

// EncodeGGUF returns a GGUF v3 header carrying meta and no tensors.
func EncodeGGUF(meta ModelMeta) []byte {
	var b bytes.Buffer
	le := binary.LittleEndian
	u32 := func(v uint32) { _ = binary.Write(&b, le, v) }
	u64 := func(v uint64) { _ = binary.Write(&b, le, v) }
	str := func(s string) { u64(uint64(len(s))); b.WriteString(s) }

	kvs := 0
	if meta.Name != "" {
		kvs++
	}
	if meta.Arch != "" {
		kvs++
		if meta.ContextLen > 0 {
			kvs++
		}
	}
	if meta.Tokenizer != "" {
		kvs++
	}
	if len(meta.Tokens) > 0 {
		kvs++
	}

	u32(gguf.Magic)
	u32(3)
	u64(0)
	u64(uint64(kvs))
	if meta.Name != "" {
		str(gguf.KeyName)
		u32(uint32(gguf.TypeString))
		str(meta.Name)
	}
	if meta.Arch != "" {
		str(gguf.KeyArchitecture)
		u32(uint32(gguf.TypeString))
		str(meta.Arch)
		if meta.ContextLen > 0 {
			str(meta.Arch + ".context_length")
			u32(uint32(gguf.TypeUint32))
			u32(meta.ContextLen)
		}
	}
	if meta.Tokenizer != "" {
		str(gguf.KeyTokenizerModel)
		u32(uint32(gguf.TypeString))
		str(meta.Tokenizer)
	}
	if len(meta.Tokens) > 0 {
		str(gguf.KeyTokens)
		u32(uint32(gguf.TypeArray))
		u32(uint32(gguf.TypeString))
		u64(uint64(len(meta.Tokens)))
		for _, tok := range meta.Tokens {
			str(tok)
		}
	}
	return b.Bytes()
}

// WriteModelFile writes a GGUF file named name into dir and returns its path.
func WriteModelFile(t *testing.T, dir, name string, meta ModelMeta) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, EncodeGGUF(meta), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return p
}

// Ctx returns a context with a short timeout, canceled on test cleanup.
func Ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return c
}
