package smelt

// Version is the build-time version string stamped into every Invocation
// record (Invocation.smelt_version). The CLI has no flag that prints it.
const Version = "0.1.0-dev"
