package service

import (
	"strconv"
	"strings"
)

// Protocol version gates. Clients newer than the supported protocol, or
// old enough to predate the v2 scheduler wire format, are turned away with
// a structured message instead of an error status.
const (
	syncProtoMax      = 10
	syncProtoV2Floor = 9 // below this, v2 scheduler collections cannot sync
)

// clientVersion is the parsed form of the "client,version,platform" string
// sent in the meta handshake. Pre-release suffixes (alpha, beta, rc) are
// split off the version and kept as extra ordinals.
type clientVersion struct {
	client   string
	numbers  []int
	alpha    int
	beta     int
	rc       int
	platform string
}

func parseClientVersion(cv string) (clientVersion, bool) {
	parts := strings.Split(cv, ",")
	if len(parts) != 3 {
		return clientVersion{}, false
	}

	v := clientVersion{client: parts[0], platform: parts[2]}
	version := parts[1]
	for _, stage := range []struct {
		name string
		dest *int
	}{
		{"alpha", &v.alpha},
		{"beta", &v.beta},
		{"rc", &v.rc},
	} {
		if idx := strings.Index(version, stage.name); idx >= 0 {
			n, err := strconv.Atoi(version[idx+len(stage.name):])
			if err == nil {
				*stage.dest = n
			}
			version = version[:idx]
		}
	}

	for _, piece := range strings.Split(version, ".") {
		n, err := strconv.Atoi(strings.TrimSpace(piece))
		if err != nil {
			return clientVersion{}, false
		}
		v.numbers = append(v.numbers, n)
	}

	return v, true
}

// isOldClient reports whether the client version string identifies a client
// too old to sync. Unknown clients and unparsable strings are let through;
// the floors only apply to the clients we know the history of.
func isOldClient(cv string) bool {
	if cv == "" {
		return false
	}

	v, ok := parseClientVersion(cv)
	if !ok {
		return false
	}

	switch v.client {
	case "ankidesktop":
		return compareVersions(v.numbers, []int{2, 0, 27}) < 0
	case "ankidroid":
		if compareVersions(v.numbers, []int{2, 3}) == 0 && v.alpha > 0 {
			return v.alpha < 4
		}
		return compareVersions(v.numbers, []int{2, 2, 3}) < 0
	}

	return false
}

// compareVersions orders two dotted version sequences; a missing component
// counts as zero.
func compareVersions(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		var av, bv int
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
