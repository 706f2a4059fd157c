// Package model defines the provider-agnostic abstractions and helpers for
// interacting with language models inside stepmesh.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, core.FunctionCall)
//   - Decode structured (JSON schema constrained) output into Go types
//   - Facilitate lightweight scripting for tests (ScriptedModel)
//
// Providers (OpenAI, Anthropic) implement the Model interface from this
// package so agents remain decoupled from vendor SDKs.
package model
