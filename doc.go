// Package tarindex builds a manifest of the files in a remote tar archive
// without downloading their contents.
//
// Only the 512-byte header blocks are read. Each call to [Indexer.Next]
// fetches one window of [BatchBlocks] blocks with an HTTP range request,
// decodes the headers it contains, and skips over file payloads by moving
// the cursor past them. A fetch that cannot be completed aborts the scan.
//
// # Quick Start
//
//	src := http.NewSource("https://example.com/archive.tar")
//	m, err := tarindex.Index(ctx, src)
//	if err != nil {
//	    return err
//	}
//	return m.Encode(os.Stdout)
//
// The manifest lists each regular file with the inclusive byte range of its
// payload, so a client can later fetch a single member with one range request:
//
//	{"url":"...","size":20480,"files":[{"name":"a.txt","offset":0,"size":3000,"range":[512,3511]}]}
//
// # Streaming
//
// For large archives, iterate entries as they are discovered instead:
//
//	ix := tarindex.New(src, tarindex.WithProgress(func(read, total int64) {
//	    fmt.Fprintf(os.Stderr, "%d/%d\n", read, total)
//	}))
//	for e, err := range ix.Entries(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(e.Name, e.Range())
//	}
//
// Entries yields every header, including directories and links; only
// regular files appear in a [Manifest].
package tarindex
