package loaders

// Asset is what a loader hands back: the decoded contents of one file.
type Asset struct {
	Name     string
	FullPath string
	DataSize uint64
	Data     interface{}
}

type Loader interface {
	Load(path string, params interface{}) (*Asset, error)
}
