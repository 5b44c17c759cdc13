// Package diagnosis asks a language model to explain an error event and
// propose a whole-file patch.
//
// The model is reached through a Completer. Providers are OpenAI (and any
// OpenAI-compatible endpoint), Anthropic and Ollama through langchaingo, and
// a plain JSON-over-HTTP endpoint. Prompts are scrubbed with the gitleaks
// detector before they leave the process.
//
// Model output is decoded into a strict schema and validated. Output that
// does not decode or validate does not fail the call: Diagnose returns a
// non-actionable Diagnosis that carries the raw text as the issue body, so
// the event is still tracked by a human.
package diagnosis
