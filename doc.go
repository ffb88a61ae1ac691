// Package hub downloads repositories from a Hugging Face compatible Hub into
// a local cache.
//
// The package serves two use cases:
//
//  1. Programmatic API via the Manager interface. NewManager returns a Manager
//     that resolves revisions, downloads snapshots or single files, and
//     inspects or prunes the cache.
//
//  2. Embeddable CLI via NewCommand. Parent CLI tools can attach a "hub"
//     subcommand tree (download, list, info, path, remove, prune) to their
//     Cobra root command.
//
// # Cache Layout
//
// The cache uses the same layout as the Python huggingface_hub library, so
// both can share one directory:
//
//	<cache>/datasets--<org>--<name>/
//	    blobs/<etag>
//	    refs/<revision>
//	    snapshots/<commit>/<path> -> ../../blobs/<etag>
//
// A blob is only moved to its final name after its content matched its etag,
// and a ref is only written after every file of its snapshot is linked, so an
// interrupted download never looks like a complete snapshot.
//
// # Configuration
//
// DefaultConfig reads the standard Hub environment variables: HF_ENDPOINT,
// HF_HUB_CACHE, HF_HOME, HF_TOKEN and HF_HUB_OFFLINE.
//
// # Thread Safety
//
// The Manager interface is safe for concurrent use. Blob writes are guarded
// by lock files under <cache>/.locks, so separate processes can share a cache.
package hub
