package network

var defaultCenters = []string{
	"Anuradhapura", "Colombo", "Galle", "Jaffna", "Kandy", "Kurunegala", "Matara", "Negombo",
}

// Road distances (km) and typical truck travel times (h).
var defaultEdges = []Edge{
	{From: "Colombo", To: "Kandy", DistanceKm: 115, Hours: 3.5},
	{From: "Colombo", To: "Galle", DistanceKm: 126, Hours: 2.5},
	{From: "Colombo", To: "Matara", DistanceKm: 160, Hours: 3},
	{From: "Colombo", To: "Kurunegala", DistanceKm: 94, Hours: 2.5},
	{From: "Colombo", To: "Anuradhapura", DistanceKm: 205, Hours: 5},
	{From: "Colombo", To: "Jaffna", DistanceKm: 396, Hours: 8.5},
	{From: "Colombo", To: "Negombo", DistanceKm: 38, Hours: 1},
	{From: "Kandy", To: "Galle", DistanceKm: 225, Hours: 5},
	{From: "Kandy", To: "Matara", DistanceKm: 255, Hours: 5.5},
	{From: "Kandy", To: "Kurunegala", DistanceKm: 42, Hours: 1},
	{From: "Kandy", To: "Anuradhapura", DistanceKm: 138, Hours: 3.5},
	{From: "Kandy", To: "Jaffna", DistanceKm: 321, Hours: 7},
	{From: "Kandy", To: "Negombo", DistanceKm: 120, Hours: 3},
	{From: "Galle", To: "Matara", DistanceKm: 45, Hours: 1},
	{From: "Galle", To: "Kurunegala", DistanceKm: 215, Hours: 5},
	{From: "Galle", To: "Anuradhapura", DistanceKm: 330, Hours: 7.5},
	{From: "Galle", To: "Jaffna", DistanceKm: 520, Hours: 11},
	{From: "Galle", To: "Negombo", DistanceKm: 160, Hours: 3},
	{From: "Matara", To: "Kurunegala", DistanceKm: 250, Hours: 5.5},
	{From: "Matara", To: "Anuradhapura", DistanceKm: 365, Hours: 8},
	{From: "Matara", To: "Jaffna", DistanceKm: 555, Hours: 12},
	{From: "Matara", To: "Negombo", DistanceKm: 195, Hours: 3.5},
	{From: "Kurunegala", To: "Anuradhapura", DistanceKm: 115, Hours: 2.5},
	{From: "Kurunegala", To: "Jaffna", DistanceKm: 300, Hours: 6.5},
	{From: "Kurunegala", To: "Negombo", DistanceKm: 75, Hours: 2},
	{From: "Anuradhapura", To: "Jaffna", DistanceKm: 195, Hours: 4},
	{From: "Anuradhapura", To: "Negombo", DistanceKm: 170, Hours: 4},
	{From: "Jaffna", To: "Negombo", DistanceKm: 360, Hours: 8},
}

// Default returns the built-in table of distribution centers.
func Default() *Network {
	return MustNew(defaultCenters, defaultEdges)
}
