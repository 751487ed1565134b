package scenarios

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/depannage/core/model"
)

func TestScenario(t *testing.T) {
	files, err := filepath.Glob("*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		sc, err := Load(f)
		require.NoError(t, err, f)
		t.Run(sc.Name, func(t *testing.T) {
			rep, err := Run(context.Background(), sc, Options{})
			require.NoError(t, err)
			assert.NoError(t, Check(rep, sc.Expected), "%v", rep.Lines)
		})
	}
}

func TestRunWritesOneLinePerStep(t *testing.T) {
	sc, err := Load("race.yaml")
	require.NoError(t, err)
	var out bytes.Buffer
	rep, err := Run(context.Background(), sc, Options{Out: &out})
	require.NoError(t, err)

	require.Len(t, rep.Lines, len(sc.Steps))
	assert.Contains(t, rep.Lines[0], "d1 candidates=2")
	assert.Contains(t, rep.Lines[1], "d1 won by t1")
	assert.Contains(t, rep.Lines[2], "d1 lost by t2 (AlreadyAssigned)")
	assert.Contains(t, rep.Lines[5], "error:")
	assert.Equal(t, 1, rep.Notifications["demande_accepted"])
	assert.Equal(t, 1, rep.Notifications["claim_rejected"])
	assert.Equal(t, 3, rep.Transitions)
	assert.Contains(t, out.String(), "d1 terminee")
}

func TestRunUnknownOp(t *testing.T) {
	rep, err := Run(context.Background(), &Scenario{Steps: []Step{{Op: "teleport"}}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)
	assert.Contains(t, rep.Lines[0], `unknown op "teleport"`)
}

func TestRunRejectsInvalidFleet(t *testing.T) {
	sc := &Scenario{Technicians: []TechnicianDef{{ID: "t1", Rating: 9}}}
	_, err := Run(context.Background(), sc, Options{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCheckReportsMismatches(t *testing.T) {
	rep := Report{Won: 1, Statuses: map[string]model.DemandeStatus{"d1": model.StatusAcceptee}}
	assert.NoError(t, Check(rep, nil))
	assert.NoError(t, Check(rep, &Expected{Won: 1, Statuses: map[string]model.DemandeStatus{"d1": model.StatusAcceptee}}))

	err := Check(rep, &Expected{Won: 2, Statuses: map[string]model.DemandeStatus{"d1": model.StatusTerminee}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 2 won accepts")
	assert.Contains(t, err.Error(), "demande d1")
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load("no-file.yaml")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nvehicles: []\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err, "unknown keys are rejected")
}

func TestTechnicianDefToModel(t *testing.T) {
	lat, lng := 6.37, 2.39
	tech := TechnicianDef{ID: "t1", Rating: 4, Vehicles: []model.VehicleType{model.VehicleMoto}, Lat: &lat, Lng: &lng}.ToModel()
	require.NotNil(t, tech.Position)
	assert.Equal(t, 6.37, tech.Position.Lat)
	assert.Nil(t, TechnicianDef{ID: "t2", Lat: &lat}.ToModel().Position)
}
