package version

// Version is the clonefs release, injected at link time with
// -ldflags "-X github.com/gadget-inc/clonefs/pkg/version.Version=...".
var Version = "dev"
