package goop

// Version is the release of this build. Overridden at link time with
// -ldflags "-X github.com/aretw0/goop.Version=...".
var Version = "v0.1.0-dev"
