package pergola

// Version is overridden at build time with -ldflags "-X github.com/aretw0/pergola.Version=...".
var Version = "dev"
