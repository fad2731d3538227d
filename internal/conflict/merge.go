package conflict

import (
	"fmt"

	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/syncerr"
)

func mergeObjects(local, remote *models.Object, winner Winner, strategy MergeStrategy) (*models.Object, error) {
	win, lose := remote, local
	if winner == WinnerLocal {
		win, lose = local, remote
	}

	switch strategy {
	case ShallowMerge:
		return shallowMerge(win, lose), nil
	case DeepMerge:
		return deepMerge(win, lose), nil
	case FieldLevel:
		// База remote, поверх все поля local
		out := remote.Clone()
		local.Range(func(k string, v models.Value) bool {
			out.Set(k, v.Clone())
			return true
		})
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown merge strategy %q", syncerr.ErrConflict, strategy)
	}
}

// shallowMerge: объединение ключей верхнего уровня, совпадающие берутся у победителя
func shallowMerge(win, lose *models.Object) *models.Object {
	out := win.Clone()
	lose.Range(func(k string, v models.Value) bool {
		if !out.Has(k) {
			out.Set(k, v.Clone())
		}
		return true
	})
	return out
}

// deepMerge рекурсивно объединяет вложенные объекты, листья берутся у победителя
func deepMerge(win, lose *models.Object) *models.Object {
	out := win.Clone()
	lose.Range(func(k string, lv models.Value) bool {
		wv, ok := out.Get(k)
		switch {
		case !ok:
			out.Set(k, lv.Clone())
		case wv.IsObject() && lv.IsObject():
			out.Set(k, models.ObjectValue(deepMerge(wv.Object(), lv.Object())))
		}
		return true
	})
	return out
}
