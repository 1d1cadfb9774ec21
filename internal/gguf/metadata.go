package gguf

import "fmt"

// Well-known metadata keys.
const (
	KeyArchitecture   = "general.architecture"
	KeyName           = "general.name"
	KeyTokenizerModel = "tokenizer.ggml.model"
	KeyTokens         = "tokenizer.ggml.tokens"
)

// String returns a string metadata value.
func (h *Header) String(key string) (string, bool) {
	v, ok := h.Metadata[key].(string)
	return v, ok
}

// Uint returns an unsigned integer metadata value, widening smaller integer
// types. Negative signed values are rejected.
func (h *Header) Uint(key string) (uint64, bool) {
	switch v := h.Metadata[key].(type) {
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	case int8:
		return uint64(v), v >= 0
	case int16:
		return uint64(v), v >= 0
	case int32:
		return uint64(v), v >= 0
	case int64:
		return uint64(v), v >= 0
	}
	return 0, false
}

// Architecture returns general.architecture (e.g. "llama", "qwen2").
func (h *Header) Architecture() string {
	s, _ := h.String(KeyArchitecture)
	return s
}

// Name returns general.name, if present.
func (h *Header) Name() string {
	s, _ := h.String(KeyName)
	return s
}

// ContextLength returns <arch>.context_length, the training context size.
func (h *Header) ContextLength() int {
	arch := h.Architecture()
	if arch == "" {
		return 0
	}
	n, _ := h.Uint(arch + ".context_length")
	return int(n)
}

// VocabSize returns the number of tokenizer tokens.
func (h *Header) VocabSize() int {
	if arr, ok := h.Metadata[KeyTokens].(Array); ok {
		return int(arr.Len)
	}
	return 0
}

// TokenizerModel returns tokenizer.ggml.model (e.g. "gpt2", "llama").
func (h *Header) TokenizerModel() string {
	s, _ := h.String(KeyTokenizerModel)
	return s
}

// VocabDescription summarizes the tokenizer, e.g. "gpt2 (151936 tokens)".
func (h *Header) VocabDescription() string {
	tm := h.TokenizerModel()
	n := h.VocabSize()
	switch {
	case tm == "" && n == 0:
		return "unknown"
	case n == 0:
		return tm
	case tm == "":
		return fmt.Sprintf("%d tokens", n)
	}
	return fmt.Sprintf("%s (%d tokens)", tm, n)
}
