package config

type AppConfig struct {
	APIPort     string `env:"PORT" envDefault:"12321"`
	APIKey      string `env:"API_KEY,required"`
	RabbitMQURL string `env:"RABBITMQ_URL,required"`
	WorkerCount int    `env:"WORKER_COUNT" envDefault:"2"`
}

type DatabaseConfig struct {
	Host            string `env:"DOCSTACK_POSTGRES_HOST,required"`
	Port            string `env:"DOCSTACK_POSTGRES_PORT,required"`
	User            string `env:"DOCSTACK_POSTGRES_USER,required"`
	DBName          string `env:"DOCSTACK_POSTGRES_DB_NAME,required"`
	Password        string `env:"DOCSTACK_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"DOCSTACK_POSTGRES_DB_MAX_CONN"`
	MaxIdleConn     int    `env:"DOCSTACK_POSTGRES_DB_MAX_IDLE_CONN"`
	ConnMaxLifetime int    `env:"DOCSTACK_POSTGRES_DB_CONN_MAX_LIFETIME"`
	LogLevel        string `env:"DOCSTACK_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"DOCSTACK_POSTGRES_SSL_MODE" envDefault:"require"`
}

type StorageConfig struct {
	ConsumeDir   string `env:"CONSUME_DIR" envDefault:"/var/docstack/consume"`
	ScratchDir   string `env:"SCRATCH_DIR" envDefault:"/tmp/docstack"`
	OriginalsDir string `env:"ORIGINALS_DIR" envDefault:"/var/docstack/media/originals"`
	ArchiveDir   string `env:"ARCHIVE_DIR" envDefault:"/var/docstack/media/archive"`
	ThumbnailDir string `env:"THUMBNAIL_DIR" envDefault:"/var/docstack/media/thumbnails"`
	MediaLock    string `env:"MEDIA_LOCK" envDefault:"/var/docstack/media/media.lock"`

	// DeleteDuplicates removes the incoming file when it is detected as a
	// duplicate of an existing document.
	DeleteDuplicates bool `env:"CONSUMER_DELETE_DUPLICATES" envDefault:"false"`
}

type BarcodeConfig struct {
	// EnableSeparators turns on separator-page detection and splitting.
	EnableSeparators bool `env:"CONSUMER_ENABLE_BARCODES" envDefault:"false"`
	// SeparatorString is the sentinel value that marks a page as a separator.
	SeparatorString string `env:"CONSUMER_BARCODE_STRING" envDefault:"PATCHT"`
	// EnableASN turns on archive-serial-number barcode detection.
	EnableASN bool `env:"CONSUMER_ENABLE_ASN_BARCODE" envDefault:"false"`
	// ASNPrefix is the prefix that identifies an ASN-carrying code value.
	ASNPrefix string `env:"CONSUMER_ASN_BARCODE_PREFIX" envDefault:"ASN"`
	// TiffSupport additionally accepts TIFF inputs for barcode processing.
	TiffSupport bool `env:"CONSUMER_BARCODE_TIFF_SUPPORT" envDefault:"false"`
}

type IndexConfig struct {
	Path string `env:"INDEX_DIR" envDefault:"/var/docstack/index"`
}

type WatcherConfig struct {
	Enabled bool `env:"CONSUMER_WATCH_ENABLED" envDefault:"true"`
	// SettleDelaySeconds is how long a file must be stable before it is
	// picked up, so partially written files are not consumed.
	SettleDelaySeconds int `env:"CONSUMER_WATCH_SETTLE_DELAY" envDefault:"5"`
}

type CronConfig struct {
	ProcessMailSchedule   string `env:"CRON_SCHEDULE_PROCESS_MAIL" envDefault:"*/10 * * * *"`
	IndexOptimizeSchedule string `env:"CRON_SCHEDULE_INDEX_OPTIMIZE" envDefault:"0 0 * * *"`
	SanityCheckSchedule   string `env:"CRON_SCHEDULE_SANITY_CHECK" envDefault:"30 0 * * 0"`
}
