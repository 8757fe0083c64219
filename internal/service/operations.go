package service

// Collection-sync operation names, matching the final path segment of the
// client's POST requests.
const (
	OpHostKey      = "hostKey"
	OpMeta         = "meta"
	OpUpload       = "upload"
	OpDownload     = "download"
	OpStart        = "start"
	OpApplyGraves  = "applyGraves"
	OpApplyChanges = "applyChanges"
	OpChunk        = "chunk"
	OpApplyChunk   = "applyChunk"
	OpSanityCheck2 = "sanityCheck2"
	OpFinish       = "finish"
)

// Media-sync operation names.
const (
	OpBegin         = "begin"
	OpMediaChanges  = "mediaChanges"
	OpMediaSanity   = "mediaSanity"
	OpUploadChanges = "uploadChanges"
	OpDownloadFiles = "downloadFiles"
)

// CollectionOps enumerates the operations dispatched to the collection
// syncer. hostKey, meta, upload and download are handled before dispatch
// and are deliberately absent.
var CollectionOps = map[string]bool{
	OpStart:        true,
	OpApplyGraves:  true,
	OpApplyChanges: true,
	OpChunk:        true,
	OpApplyChunk:   true,
	OpSanityCheck2: true,
	OpFinish:       true,
}

// MediaOps enumerates the operations dispatched to the media syncer.
var MediaOps = map[string]bool{
	OpBegin:         true,
	OpMediaChanges:  true,
	OpMediaSanity:   true,
	OpUploadChanges: true,
	OpDownloadFiles: true,
}

// KnownOp reports whether op belongs to either operation family, including
// the ones handled before dispatch.
func KnownOp(op string) bool {
	switch op {
	case OpHostKey, OpMeta, OpUpload, OpDownload:
		return true
	}
	return CollectionOps[op] || MediaOps[op]
}
