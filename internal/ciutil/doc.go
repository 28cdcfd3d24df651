// Package ciutil detects CI environments and resolves the environment
// variables used by integration tests.
package ciutil
