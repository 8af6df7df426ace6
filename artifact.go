package sanityml

// A Class tells the scanner which pipeline an artifact's bytes take. The
// directory walker (or any other caller) assigns classes; the scanner does not
// touch the filesystem.
type Class int

const (
	// ClassUnknown artifacts are ignored.
	ClassUnknown Class = iota
	// ClassModel artifacts carry serialized object graphs: bare pickle
	// streams or archive containers embedding them.
	ClassModel
	// ClassSource artifacts are plain source text.
	ClassSource
	// ClassNotebook artifacts are notebook JSON; code cells are extracted and
	// scanned as source.
	ClassNotebook
)

func (c Class) String() string {
	switch c {
	case ClassModel:
		return "model"
	case ClassSource:
		return "source"
	case ClassNotebook:
		return "notebook"
	default:
		return "unknown"
	}
}

// An Artifact is one unit of work: a path for reporting, a class for
// dispatch, and the artifact's complete bytes. The scanner treats Data as
// immutable.
type Artifact struct {
	Path  string
	Class Class
	Data  []byte
}
