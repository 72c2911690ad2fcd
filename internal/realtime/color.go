package realtime

import "hash/fnv"

// palette holds presence colors chosen for contrast on a light canvas.
var palette = []string{
	"#e11d48",
	"#2563eb",
	"#16a34a",
	"#d97706",
	"#7c3aed",
	"#0891b2",
	"#db2777",
	"#65a30d",
	"#ea580c",
	"#4f46e5",
}

// ColorFor returns the presence color of a user. The same user gets the
// same color in every room and on every connection.
func ColorFor(userID string) string {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(userID))
	return palette[hasher.Sum32()%uint32(len(palette))]
}
