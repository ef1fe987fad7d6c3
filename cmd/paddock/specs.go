package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/paddock-dev/paddock/internal/catalog"
	"github.com/paddock-dev/paddock/internal/filterpartition"
	"github.com/paddock-dev/paddock/internal/listbuild"
)

// stringsFlag collects repeated occurrences of a flag into a slice, the
// way cargo-style tools accept repeatable -E/--binary flags.
type stringsFlag []string

func (s *stringsFlag) String() string { return strings.Join(*s, ",") }
func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// binaryFlags are the flags shared by the list and run subcommands for
// discovering which binaries to enumerate.
type binaryFlags struct {
	binaries stringsFlag
	host     stringsFlag
	ignored  bool
}

func (b *binaryFlags) register(f *flag.FlagSet) {
	f.Var(&b.binaries, "binary", "path to a target-platform test binary (repeatable)")
	f.Var(&b.host, "host-binary", "path to a host-platform test binary (repeatable)")
	f.BoolVar(&b.ignored, "ignored", false, "also list/run cases marked ignored")
}

// specs turns the parsed binary paths into listbuild.BinarySpecs. The
// binary's own filename (the path after its last '/', extension
// included) doubles as its package
// name, since this module does not compile code and has no build
// manifest to read a real package graph from.
func (b *binaryFlags) specs() []listbuild.BinarySpec {
	var out []listbuild.BinarySpec
	for _, path := range b.binaries {
		out = append(out, binarySpecFor(path, catalog.Target))
	}
	for _, path := range b.host {
		out = append(out, binarySpecFor(path, catalog.Host))
	}
	return out
}

func binarySpecFor(path string, platform catalog.BuildPlatform) listbuild.BinarySpec {
	name := path
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return listbuild.BinarySpec{
		ID:            catalog.DeriveBinaryID(name, "test", name),
		Path:          path,
		PackageID:     name,
		TargetName:    name,
		BuildPlatform: platform,
	}
}

// filterFlags configure the filter/partition pipeline from the command
// line: positional arguments are substring name patterns, -partition
// selects a sharding strategy.
type filterFlags struct {
	exact     bool
	partition string
}

func (ff *filterFlags) register(f *flag.FlagSet) {
	f.BoolVar(&ff.exact, "exact", false, "treat positional arguments as exact case names instead of substrings")
	f.StringVar(&ff.partition, "partition", "", `shard spec, e.g. "count:1/3" or "hash:2/4"`)
}

func (ff *filterFlags) options(patterns []string, ignored bool) (filterpartition.Options, error) {
	mode := filterpartition.Substring
	if ff.exact {
		mode = filterpartition.Exact
	}
	var named []filterpartition.NamePattern
	for _, p := range patterns {
		named = append(named, filterpartition.NamePattern{Mode: mode, Text: p})
	}

	runIgnored := filterpartition.Default
	if ignored {
		runIgnored = filterpartition.All
	}

	opts := filterpartition.Options{NamePatterns: named, RunIgnored: runIgnored}

	if ff.partition != "" {
		spec, err := parsePartition(ff.partition)
		if err != nil {
			return filterpartition.Options{}, err
		}
		opts.Partition = &spec
	}
	return opts, nil
}

// parsePartition parses "kind:shard/total", kind one of "count"/"hash"/"slice".
func parsePartition(s string) (filterpartition.PartitionSpec, error) {
	kindStr, rest, ok := strings.Cut(s, ":")
	if !ok {
		return filterpartition.PartitionSpec{}, fmt.Errorf("partition %q: want KIND:SHARD/TOTAL", s)
	}
	shardStr, totalStr, ok := strings.Cut(rest, "/")
	if !ok {
		return filterpartition.PartitionSpec{}, fmt.Errorf("partition %q: want KIND:SHARD/TOTAL", s)
	}
	shard, err := strconv.Atoi(shardStr)
	if err != nil {
		return filterpartition.PartitionSpec{}, fmt.Errorf("partition %q: bad shard: %v", s, err)
	}
	total, err := strconv.Atoi(totalStr)
	if err != nil {
		return filterpartition.PartitionSpec{}, fmt.Errorf("partition %q: bad total: %v", s, err)
	}
	var kind filterpartition.PartitionKind
	switch kindStr {
	case "count":
		kind = filterpartition.CountPartition
	case "hash":
		kind = filterpartition.HashPartition
	case "slice":
		kind = filterpartition.SlicePartition
	default:
		return filterpartition.PartitionSpec{}, fmt.Errorf("partition %q: unknown kind %q", s, kindStr)
	}
	return filterpartition.PartitionSpec{Kind: kind, Shard: shard, Total: total}, nil
}
