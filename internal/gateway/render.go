package gateway

import (
	"encoding/json"

	"github.com/jmgilman/go/errors"

	"github.com/any-hub/pkg-cdn/internal/errkind"
	"github.com/any-hub/pkg-cdn/internal/listing"
)

func treeJSON(dir, filename string, maxDepth int) ([]byte, error) {
	entry, err := listing.Tree(dir, filename, maxDepth)
	if err != nil || entry == nil {
		return nil, err
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, errors.Wrap(err, errkind.FilesystemError, "encode metadata tree")
	}
	return body, nil
}

func indexPage(title, dir, filename string) ([]byte, error) {
	return listing.IndexHTML(title, dir, filename)
}
