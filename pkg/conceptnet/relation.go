package conceptnet

// symmetricRelations is the closed set of relations whose direction carries
// no meaning. Any relation outside the set is treated as directed.
var symmetricRelations = map[string]struct{}{
	"/r/Antonym":                 {},
	"/r/DistinctFrom":            {},
	"/r/EtymologicallyRelatedTo": {},
	"/r/LocatedNear":             {},
	"/r/RelatedTo":               {},
	"/r/SimilarTo":               {},
	"/r/Synonym":                 {},
}

// IsSymmetricRelation reports whether rel is one of the known symmetric relations.
func IsSymmetricRelation(rel string) bool {
	_, ok := symmetricRelations[rel]
	return ok
}

// Direction is the orientation of a node with respect to an edge in the
// feature index.
type Direction int16

const (
	// DirectionBackward marks the object (end) side of a directed relation.
	DirectionBackward Direction = -1
	// DirectionSymmetric marks either endpoint of a symmetric relation.
	DirectionSymmetric Direction = 0
	// DirectionForward marks the subject (start) side of a directed relation.
	DirectionForward Direction = 1
)
