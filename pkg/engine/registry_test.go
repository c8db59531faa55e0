package engine

import (
	"context"
	"testing"
)

type staticExtractor struct {
	desc      Descriptor
	artifacts []Artifact
	err       error
}

func (e *staticExtractor) Describe() Descriptor { return e.desc }

func (e *staticExtractor) Run(ctx context.Context, region string, filters map[string]string) ([]Artifact, error) {
	return e.artifacts, e.err
}

func desc(provider, service string, regions ...string) Descriptor {
	return Descriptor{
		Provider:     provider,
		Service:      service,
		Version:      "1.0.0",
		RegionScoped: len(regions) > 0,
		Regions:      regions,
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	for _, d := range []Descriptor{
		desc("aws", "ec2", "us-east-1"),
		desc("aws", "s3"),
		desc("gcp", "compute", "us-central1"),
	} {
		if err := r.Register(d, &staticExtractor{desc: d}); err != nil {
			t.Fatalf("registration failed for %s: %v", d.Key(), err)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", r.Len())
	}

	tests := []struct {
		name     string
		provider string
		services []string
		want     []string
	}{
		{"all", "", nil, []string{"aws:ec2", "aws:s3", "gcp:compute"}},
		{"by provider", "aws", nil, []string{"aws:ec2", "aws:s3"}},
		{"by provider and service", "aws", []string{"s3"}, []string{"aws:s3"}},
		{"service across providers", "", []string{"compute"}, []string{"gcp:compute"}},
		{"no match", "azure", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := r.Resolve(tt.provider, tt.services)
			if len(entries) != len(tt.want) {
				t.Fatalf("expected %d entries, got %d", len(tt.want), len(entries))
			}
			for i, e := range entries {
				if e.Descriptor.Key() != tt.want[i] {
					t.Errorf("entry %d: expected %s, got %s", i, tt.want[i], e.Descriptor.Key())
				}
			}
		})
	}
}

func TestRegisterRejections(t *testing.T) {
	r := NewRegistry()
	good := desc("aws", "ec2")
	if err := r.Register(good, &staticExtractor{desc: good}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name string
		desc Descriptor
		ex   Extractor
	}{
		{"missing provider", desc("", "ec2"), &staticExtractor{}},
		{"missing service", desc("aws", ""), &staticExtractor{}},
		{"nil extractor", desc("aws", "rds"), nil},
		{"duplicate key", good, &staticExtractor{desc: good}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(tt.desc, tt.ex); err == nil {
				t.Error("expected registration error, got nil")
			}
		})
	}

	// The catalog keeps serving after rejections.
	if r.Len() != 1 {
		t.Errorf("expected 1 entry after rejections, got %d", r.Len())
	}
}

func TestListReturnsDescriptors(t *testing.T) {
	r := NewRegistry()
	d := desc("aws", "ec2", "us-east-1")
	if err := r.Register(d, &staticExtractor{desc: d}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	descs := r.List("aws", nil)
	if len(descs) != 1 || descs[0].Key() != "aws:ec2" {
		t.Errorf("unexpected descriptors: %+v", descs)
	}
}
