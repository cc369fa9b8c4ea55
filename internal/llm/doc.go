// Package llm defines the natural-language understanding port used by the
// intent parser. Providers receive the user's text together with the
// workflow catalogue and return a structured intent candidate.
package llm
