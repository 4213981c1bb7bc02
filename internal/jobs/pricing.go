package jobs

// Fixed credit price per job type. Unknown types are rejected at creation,
// so a job row always carries a cost the ledger can trust.
var priceTable = map[string]int64{
	"upscale":            1,
	"enhance":            1,
	"background_removal": 2,
	"colorize":           2,
	"style_transfer":     3,
}

// Cost returns the credit cost for a job type and whether the type is known.
func Cost(jobType string) (int64, bool) {
	cost, ok := priceTable[jobType]
	return cost, ok
}

// JobTypes returns the supported job types, for validation messages.
func JobTypes() []string {
	out := make([]string, 0, len(priceTable))
	for t := range priceTable {
		out = append(out, t)
	}
	return out
}
