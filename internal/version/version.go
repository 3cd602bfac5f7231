// ABOUTME: Build identity constants
// ABOUTME: Threaded into log lines so diagnostics can be traced to a pipeline build
package version

const (
	// Version is the pipeline's build version.
	Version = "0.1.0"

	// Product identifies this pipeline in collector-side log lines.
	Product = "opusfeed"

	// Manufacturer identifies the owning project in collector-side log lines.
	Manufacturer = "pixelstream"
)
