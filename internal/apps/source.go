package apps

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Brownie44l1/demohub/internal/config"
	"github.com/Brownie44l1/demohub/internal/model"
)

// Downloader fetches a file from a model repository and returns its local
// path. *hub.Client implements it.
type Downloader interface {
	Download(ctx context.Context, repo, revision, filename string) (string, error)
}

// SourceLoaders returns, per app, a load function that resolves the model and
// metadata files (downloading them when they live in a repository) and opens
// the model.
func SourceLoaders(cfg *config.Config, dl Downloader, open model.Opener, log *zap.Logger) map[string]model.LoadFunc {
	loaders := make(map[string]model.LoadFunc, len(cfg.Apps))
	for _, ac := range cfg.Apps {
		src := ac.Model
		id := ac.ID
		loaders[id] = func(ctx context.Context) (*model.Classifier, error) {
			modelPath, err := resolve(ctx, dl, src, src.Path, src.Filename)
			if err != nil {
				return nil, err
			}
			metaPath, err := resolve(ctx, dl, src, src.MetadataPath, src.Metadata)
			if err != nil {
				return nil, err
			}

			log.Info("Loading model", zap.String("app", id), zap.String("model", modelPath), zap.String("metadata", metaPath))
			c, err := model.Open(modelPath, metaPath, open)
			if err != nil {
				return nil, err
			}
			log.Info("Model loaded", zap.String("app", id), zap.Strings("classes", c.Metadata.Classes))
			return c, nil
		}
	}
	return loaders
}

func resolve(ctx context.Context, dl Downloader, src config.ModelSource, local, remote string) (string, error) {
	if local != "" {
		return local, nil
	}
	if dl == nil {
		return "", fmt.Errorf("%s needs a download from %s but no hub client is configured", remote, src.Repo)
	}
	return dl.Download(ctx, src.Repo, src.Revision, remote)
}
