// Package builtins embeds the hand-authored "stdlib" utilities shipped with
// this implementation: each subdirectory declares a sibling utility.json
// metadata file plus a source.txt injectable source.
package builtins

import "embed"

//go:embed wandb/utility.json wandb/source.txt stagehand/utility.json stagehand/source.txt tracing/utility.json tracing/source.txt
var FS embed.FS

// Names lists the builtin utility directories, in the order registry
// discovery reads them.
var Names = []string{"wandb", "stagehand", "tracing"}
