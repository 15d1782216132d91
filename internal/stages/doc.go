// Package stages implements the executors of the drama pipeline:
// parse, script, storyboard, character, render, animate, voice, lipsync and
// export.
//
// Executors are pure functions of their StageContext. Every generator call
// goes through pipeline.Invoke so that it is retried, cached and billed the
// same way, and per-item work fans out through pipeline.Map so that pause and
// cancel take effect between items. Outputs are plain JSON-serializable
// structs that later stages read back with pipeline.Output.
package stages
