// ABOUTME: Public entry point for the Opus decode-and-playback pipeline
// ABOUTME: A host links against this package and owns the Pipeline value it creates
package audiopipe
