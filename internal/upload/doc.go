// Package upload receives chunked uploads into the owner's upload volume.
//
// Chunks land under <upload mount>/_chunks/<upload id>/<index> and are
// concatenated in numeric index order when the client completes the
// upload. The assembled file is recorded as a processing media item and
// handed to the transcode pipeline.
package upload
