package delivery

import (
	"context"
	"testing"

	"github.com/athebyme/catalog-feed-service/internal/adapters/filestore"
	"github.com/athebyme/catalog-feed-service/internal/domain/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedKey(t *testing.T) {
	assert.Equal(t, "product-catalog/abc123.xml", FeedKey("abc123"))
}

func TestFileStoreStrategy_Deliver(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := filestore.NewFileStoreWithFs(fs)
	strategy := NewFileStoreStrategy(store)

	channel := &models.Channel{Token: "abc123", Output: models.OutputURL}

	artifact, err := strategy.Deliver(context.Background(), channel, []byte("<rss/>"))
	require.NoError(t, err)
	assert.Equal(t, "product-catalog/abc123.xml", artifact.Location)

	data, err := afero.ReadFile(fs, "product-catalog/abc123.xml")
	require.NoError(t, err)
	assert.Equal(t, "<rss/>", string(data))
}

func TestFileStoreStrategy_OverwritesSameKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := filestore.NewFileStoreWithFs(fs)
	strategy := NewFileStoreStrategy(store)

	channel := &models.Channel{Token: "abc123", Output: models.OutputURL}

	first, err := strategy.Deliver(context.Background(), channel, []byte("old"))
	require.NoError(t, err)

	second, err := strategy.Deliver(context.Background(), channel, []byte("new"))
	require.NoError(t, err)

	// Повторная доставка перезаписывает тот же ключ
	assert.Equal(t, first.Location, second.Location)

	data, err := afero.ReadFile(fs, second.Location)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}

func TestFileStoreStrategy_WrapsStoreError(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	store := filestore.NewFileStoreWithFs(fs)
	strategy := NewFileStoreStrategy(store)

	channel := &models.Channel{Token: "abc123", Output: models.OutputURL}

	_, err := strategy.Deliver(context.Background(), channel, []byte("<rss/>"))
	require.Error(t, err)

	var deliveryErr *Error
	require.ErrorAs(t, err, &deliveryErr)
	assert.Equal(t, "store", deliveryErr.Stage)
}

func TestFactory_ForChannel(t *testing.T) {
	factory := NewFactory(filestore.NewFileStoreWithFs(afero.NewMemMapFs()))

	t.Run("url", func(t *testing.T) {
		s, err := factory.ForChannel(&models.Channel{Output: models.OutputURL})
		require.NoError(t, err)
		assert.IsType(t, &FileStoreStrategy{}, s)
	})

	t.Run("sftp", func(t *testing.T) {
		s, err := factory.ForChannel(&models.Channel{Output: models.OutputSFTP})
		require.NoError(t, err)
		assert.IsType(t, &SFTPStrategy{}, s)
	})

	t.Run("disabled", func(t *testing.T) {
		_, err := factory.ForChannel(&models.Channel{Output: models.OutputDisabled})
		assert.ErrorIs(t, err, ErrOutputDisabled)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := factory.ForChannel(&models.Channel{Output: "ftp"})
		assert.ErrorIs(t, err, ErrUnknownOutput)
	})
}
