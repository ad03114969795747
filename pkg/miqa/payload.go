package miqa

// Payload is what a caller hands to the import-file writer. The variant is
// chosen by the caller: RawRows are legacy text lines that have not been
// converted, Converted wraps a structured import file.
type Payload interface {
	isPayload()
}

// RawRows are unconverted legacy CSV lines, header first.
type RawRows []string

func (RawRows) isPayload() {}

// Converted carries an import file produced by the row mapper or a reader.
type Converted struct {
	File ImportFile
}

func (Converted) isPayload() {}
