package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Open reads the metadata (and vocabulary, for text models) and opens a
// session for the model file.
func Open(modelPath, metadataPath string, open Opener) (*Classifier, error) {
	meta, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	if meta.VocabFile != "" && meta.Vocab == nil {
		vocabPath := meta.VocabFile
		if !filepath.IsAbs(vocabPath) {
			vocabPath = filepath.Join(filepath.Dir(metadataPath), vocabPath)
		}
		vocab, err := loadVocab(vocabPath)
		if err != nil {
			return nil, err
		}
		meta.Vocab = vocab
	}

	if open == nil {
		open = OpenONNX
	}
	session, err := open(modelPath, meta)
	if err != nil {
		return nil, err
	}
	return NewClassifier(meta, session), nil
}

func loadVocab(path string) (map[string]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}

	var vocab map[string]int
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocab: %w", err)
	}
	return vocab, nil
}
