package indexer

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"nccatalog/internal/catalog"
	"nccatalog/internal/logging"
)

// metadataFile is the sidecar descriptor an experiment root may carry.
const metadataFile = "metadata.yaml"

// sidecar mirrors the descriptor's fields. Keywords accepts either a
// scalar or a sequence.
type sidecar struct {
	Contact     string     `yaml:"contact"`
	Email       string     `yaml:"email"`
	Created     string     `yaml:"created"`
	Description string     `yaml:"description"`
	Notes       string     `yaml:"notes"`
	URL         string     `yaml:"url"`
	Keywords    stringList `yaml:"keywords"`
}

type stringList []string

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = stringList(ss)
		return nil
	}
	return fmt.Errorf("keywords must be a string or a list of strings")
}

// mergeMetadata re-merges the sidecar descriptor into the experiment row.
// A missing descriptor is normal; a malformed one is logged and skipped.
func mergeMetadata(sess *catalog.Session, exp *catalog.Experiment) error {
	log := logging.L(logging.CategoryIndex)
	path := filepath.Join(exp.RootDir, metadataFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Warn("error reading metadata file", zap.String("path", path), zap.Error(err))
		return nil
	}

	var sc sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		log.Warn("error parsing metadata file", zap.String("path", path), zap.Error(err))
		return nil
	}

	merge := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	merge(&exp.Contact, sc.Contact)
	merge(&exp.Email, sc.Email)
	merge(&exp.Created, sc.Created)
	merge(&exp.Description, sc.Description)
	merge(&exp.Notes, sc.Notes)
	merge(&exp.URL, sc.URL)

	if err := sess.UpdateExperimentMetadata(exp); err != nil {
		return err
	}
	if len(sc.Keywords) > 0 {
		if err := sess.MergeExperimentKeywords(exp.ID, sc.Keywords); err != nil {
			return err
		}
	}
	return nil
}
