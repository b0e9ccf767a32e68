package safetensors

import "fmt"

// EmbeddingTable is a [vocab, dim] float32 matrix indexed by token id.
type EmbeddingTable struct {
	Name  string
	Vocab int
	Dim   int
	data  []float32
}

// LoadEmbeddingTable reads the named 2D tensor from path. An empty name
// selects the first tensor in sorted order.
func LoadEmbeddingTable(path, name string) (*EmbeddingTable, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return embeddingTableFromStore(store, name)
}

func embeddingTableFromStore(store *Store, name string) (*EmbeddingTable, error) {
	if name == "" {
		name = store.Names()[0]
	}

	t, err := store.Tensor(name)
	if err != nil {
		return nil, err
	}

	if len(t.Shape) != 2 || t.Shape[0] == 0 || t.Shape[1] == 0 {
		return nil, fmt.Errorf("safetensors: embedding tensor %q has shape %v, expected non-empty [vocab, dim]", name, t.Shape)
	}

	return &EmbeddingTable{
		Name:  name,
		Vocab: int(t.Shape[0]),
		Dim:   int(t.Shape[1]),
		data:  t.Data,
	}, nil
}

// Row returns the embedding of token id. The slice aliases the table.
func (e *EmbeddingTable) Row(id int64) ([]float32, error) {
	if id < 0 || id >= int64(e.Vocab) {
		return nil, fmt.Errorf("safetensors: token id %d outside vocabulary of %d", id, e.Vocab)
	}

	off := int(id) * e.Dim

	return e.data[off : off+e.Dim : off+e.Dim], nil
}
