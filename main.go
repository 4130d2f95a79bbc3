// =============================================================================
// Blood Test Parser - Main Entry Point
// =============================================================================
//
// This is the main entry point for the bloodtest CLI. It delegates command
// execution to the cmd package.
//
// USAGE:
//   bloodtest process       - Merge all documents in the input directory
//   bloodtest parse FILE    - Print how one document is parsed
//   bloodtest validate      - Check configuration, alias table and template
//   bloodtest unresolved    - List test names the alias table is missing
//   bloodtest version       - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : OCR, parsing, standardization, merging and export
//   - pkg/utils/     : File management and log writers
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/blood-test-parser/cmd"
)

func main() {
	cmd.Execute()
}
