// Package llm implements the transform.Applier contract against an
// OpenRouter-style chat completion API. One request covers a whole chunk:
// the command plus the chunk's rows go out, a JSON array with one value per
// row comes back.
package llm
