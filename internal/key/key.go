package key

import (
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	Args              = StringSliceKey("cow.args")
	Backend           = StringKey("cow.backend")
	BytesCloned       = Int64Key("cow.bytes_cloned")
	ChunkCount        = IntKey("cow.chunk_count")
	ChunkLength       = Int64Key("cow.chunk.length")
	ChunkOffset       = Int64Key("cow.chunk.offset")
	ClusterSize       = Int64Key("cow.cluster_size")
	Command           = StringKey("cow.command")
	ConfigPath        = StringKey("cow.config_path")
	CrossProcessLocks = BoolKey("cow.cross_process_locks")
	Destination       = StringKey("cow.destination")
	DurationMS        = DurationKey("cow.duration_ms")
	Environment       = StringKey("cow.environment")
	ErrorKind         = StringKey("cow.error_kind")
	FileCount         = Int64Key("cow.file_count")
	Flags             = StringKey("cow.flags")
	Integrity         = BoolKey("cow.integrity")
	Length            = Int64Key("cow.length")
	LockDir           = StringKey("cow.lock_dir")
	LockID            = Uint64Key("cow.lock_id")
	LockKey           = StringKey("cow.lock_key")
	MountPaths        = StringSliceKey("cow.mount_paths")
	Path              = StringKey("cow.path")
	Root              = StringKey("cow.root")
	SerializeScope    = StringKey("cow.serialize_scope")
	Source            = StringKey("cow.source")
	Sparse            = BoolKey("cow.sparse")
	Supported         = BoolKey("cow.supported")
	VolumeCount       = IntKey("cow.volume_count")
	VolumeID          = StringKey("cow.volume_id")
	Worker            = IntKey("cow.worker")
	WorkerCount       = IntKey("cow.worker_count")
)

type BoolKey string

func (bk BoolKey) Field(value bool) zap.Field {
	return zap.Bool(string(bk), value)
}

func (bk BoolKey) Attribute(value bool) attribute.KeyValue {
	return attribute.Bool(string(bk), value)
}

type StringKey string

func (sk StringKey) Field(value string) zap.Field {
	return zap.String(string(sk), value)
}

func (sk StringKey) Attribute(value string) attribute.KeyValue {
	return attribute.String(string(sk), value)
}

type StringSliceKey string

func (ssk StringSliceKey) Field(value []string) zap.Field {
	return zap.Strings(string(ssk), value)
}

func (ssk StringSliceKey) Attribute(value []string) attribute.KeyValue {
	return attribute.StringSlice(string(ssk), value)
}

type IntKey string

func (ik IntKey) Field(value int) zap.Field {
	return zap.Int(string(ik), value)
}

func (ik IntKey) Attribute(value int) attribute.KeyValue {
	return attribute.Int(string(ik), value)
}

type Int64Key string

func (ik Int64Key) Field(value int64) zap.Field {
	return zap.Int64(string(ik), value)
}

func (ik Int64Key) Attribute(value int64) attribute.KeyValue {
	return attribute.Int64(string(ik), value)
}

type Uint64Key string

func (uk Uint64Key) Field(value uint64) zap.Field {
	return zap.Uint64(string(uk), value)
}

// Attribute stores the value as a signed integer; otel has no unsigned kind.
func (uk Uint64Key) Attribute(value uint64) attribute.KeyValue {
	return attribute.Int64(string(uk), int64(value))
}

type DurationKey string

func (dk DurationKey) Field(value time.Duration) zap.Field {
	return zap.Float64(string(dk), float64(value.Microseconds())/1000)
}

func (dk DurationKey) Attribute(value time.Duration) attribute.KeyValue {
	return attribute.Float64(string(dk), float64(value.Microseconds())/1000)
}
