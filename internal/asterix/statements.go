package asterix

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Distance functions of the two search paths.
const (
	ANNDistance   = "ann_distance"
	ExactDistance = "vector_distance"
)

// Statements renders the statement text for one deployment.
type Statements struct {
	Dataverse  string
	IndexName  string
	LoaderHost string
	Similarity string
	TrainList  int
}

// Ingest recreates the dataverse, declares the record type, creates a
// columnar dataset and bulk-loads the stream at absPath into it.
func (s Statements) Ingest(dataset, absPath string) string {
	loaderPath := s.LoaderHost + "://" + filepath.ToSlash(absPath)

	var b strings.Builder
	fmt.Fprintf(&b, "DROP DATAVERSE %s IF EXISTS;\n", s.Dataverse)
	fmt.Fprintf(&b, "CREATE DATAVERSE %s;\n", s.Dataverse)
	fmt.Fprintf(&b, "USE %s;\n\n", s.Dataverse)
	b.WriteString("CREATE TYPE OpenType AS {\n  idx: int\n};\n\n")
	fmt.Fprintf(&b, "CREATE DATASET %s (OpenType)\n", dataset)
	b.WriteString("PRIMARY KEY idx WITH {\n  \"storage-format\": {\"format\":\"column\"}\n};\n\n")
	fmt.Fprintf(&b, "USE %s;\n\n", s.Dataverse)
	fmt.Fprintf(&b, "LOAD DATASET %s USING localfs (\n", dataset)
	fmt.Fprintf(&b, "  (\"path\" = %q),\n", loaderPath)
	b.WriteString("  (\"format\" = \"json\")\n);\n")
	return b.String()
}

// CreateIndex drops and recreates the vector index over the embedding column.
func (s Statements) CreateIndex(dataset string, dimension, centroids int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "USE %s;\n\n", s.Dataverse)
	fmt.Fprintf(&b, "DROP INDEX %s.%s IF EXISTS;\n\n", dataset, s.IndexName)
	fmt.Fprintf(&b, "CREATE VECTOR INDEX %s ON %s(embedding VECTOR) WITH {\n", s.IndexName, dataset)
	fmt.Fprintf(&b, "    \"dimension\": %d,\n", dimension)
	fmt.Fprintf(&b, "    \"train_list\": %d,\n", s.TrainList)
	b.WriteString("    \"description\": \" \",\n")
	fmt.Fprintf(&b, "    \"num_k\": %d,\n", centroids)
	fmt.Fprintf(&b, "    \"similarity\": %q\n", s.Similarity)
	b.WriteString("};\n")
	return b.String()
}

// Search returns the k nearest record ids to target ordered by the given
// distance function.
func (s Statements) Search(distance, dataset string, target []float64, k int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "USE %s;\n", s.Dataverse)
	b.WriteString("LET target=[")
	writeVector(&b, target)
	b.WriteString("]\n")
	fmt.Fprintf(&b, "FROM %s row\n", dataset)
	fmt.Fprintf(&b, "LET dist = %s(row.embedding, target, %q)\n", distance, s.Similarity)
	b.WriteString("SELECT row.idx\nORDER BY dist\n")
	fmt.Fprintf(&b, "LIMIT %d;\n", k)
	return b.String()
}

func writeVector(b *strings.Builder, v []float64) {
	for i, x := range v {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
}
