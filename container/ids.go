package container

// Well-known segment ids. A container is free to carry additional
// segments; tooling only relies on these.
const (
	IDKV       = "kv"
	IDVectors  = "vec"
	IDLog      = "log"
	IDSnapshot = "snap"
	IDMeta     = "meta"
	IDIndex    = "index"
)
