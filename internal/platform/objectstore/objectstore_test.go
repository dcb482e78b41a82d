package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Endpoint:      "localhost:9000",
		AccessKey:     "a",
		SecretKey:     "b",
		Region:        "us-east-1",
		BucketArchive: "process-archive",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	withScheme := valid
	withScheme.Endpoint = "http://localhost:9000"
	if err := withScheme.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}

	noBucket := valid
	noBucket.BucketArchive = " "
	if err := noBucket.Validate(); err == nil {
		t.Fatalf("Validate() expected error for missing bucket")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SGC_MINIO_BUCKET_ARCHIVE", "receipts")
	t.Setenv("SGC_MINIO_USE_SSL", "true")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.BucketArchive != "receipts" || !cfg.UseSSL {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestNewMinioStoreRequiresClient(t *testing.T) {
	if _, err := NewMinioStore(nil); err == nil {
		t.Fatalf("expected nil client to be rejected")
	}
}
