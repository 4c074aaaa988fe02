package testsupport

import "strings"

// Stage markers accepted by FFmpegScript. Each is an argument that only
// appears in the matching ffmpeg invocation.
const (
	FailImage     = "-quality"
	FailSegment   = "hls"
	FailThumbnail = "-frames:v"
)

// FFmpegScript returns a stub ffmpeg that writes plausible output for the
// image, HLS and thumbnail invocations. Invocations containing any of the
// failOn markers exit 1 without writing anything.
func FFmpegScript(failOn ...string) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("for arg; do\n")
	b.WriteString("\tcase \"$arg\" in\n")
	for _, marker := range failOn {
		b.WriteString("\t\"" + marker + "\") echo \"stub ffmpeg: forced failure\" >&2; exit 1 ;;\n")
	}
	b.WriteString("\tesac\n")
	b.WriteString("done\n")
	b.WriteString(`for last; do :; done
case "$last" in
*.m3u8)
	printf '#EXTM3U\n#EXT-X-ENDLIST\n' > "$last"
	printf 'segment' > "$(dirname "$last")/segment000.ts"
	;;
*)
	printf 'converted' > "$last"
	;;
esac
exit 0
`)
	return b.String()
}

// SlowFFmpegScript never finishes on its own.
const SlowFFmpegScript = "#!/bin/sh\nexec sleep 30\n"
