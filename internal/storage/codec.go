package storage

import (
	"encoding/json"
	"errors"

	"consensusdeme/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// CurrentVersion stamps new records.
func CurrentVersion() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodePhenotypes(p []model.Phenotype) ([]byte, error) {
	return json.Marshal(p)
}

func DecodePhenotypes(data []byte) ([]model.Phenotype, error) {
	var phenotypes []model.Phenotype
	if err := json.Unmarshal(data, &phenotypes); err != nil {
		return nil, err
	}
	for _, p := range phenotypes {
		if err := checkVersion(p.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return phenotypes, nil
}

func EncodeScapeSummary(s model.ScapeSummary) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeScapeSummary(data []byte) (model.ScapeSummary, error) {
	var summary model.ScapeSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.ScapeSummary{}, err
	}
	if err := checkVersion(summary.VersionedRecord); err != nil {
		return model.ScapeSummary{}, err
	}
	return summary, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

func clonePhenotypes(in []model.Phenotype) []model.Phenotype {
	out := make([]model.Phenotype, len(in))
	for i, p := range in {
		p.Trials = append([]model.TrialResult(nil), p.Trials...)
		out[i] = p
	}
	return out
}
